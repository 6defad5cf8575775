package mm

// MapPermission is the access granted to a map area. The bits line up with
// the page table entry flags.
type MapPermission uint8

// Map permissions.
const (
	MapRead  MapPermission = MapPermission(PTERead)
	MapWrite MapPermission = MapPermission(PTEWrite)
	MapExec  MapPermission = MapPermission(PTEExec)
	MapUser  MapPermission = MapPermission(PTEUser)
)

// PermissionFromPort decodes mmap's port bits (bit0 read, bit1 write,
// bit2 execute) into a user permission.
func PermissionFromPort(port uint64) MapPermission {
	return MapPermission(port&0x7)<<1 | MapUser
}

// MapArea is a run of pages backed by frames it owns.
type MapArea struct {
	vpns   VPNRange
	frames map[VirtPageNum]*FrameTracker
	perm   MapPermission
}

// AreaInfo describes a map area.
type AreaInfo struct {
	Range VPNRange
	Perm  MapPermission
}

func newMapArea(vpns VPNRange, perm MapPermission) *MapArea {
	return &MapArea{
		vpns:   vpns,
		frames: make(map[VirtPageNum]*FrameTracker),
		perm:   perm,
	}
}

func (a *MapArea) mapOne(pt *PageTable, vpn VirtPageNum) error {
	f, err := pt.mem.Alloc()
	if err != nil {
		return err
	}
	a.frames[vpn] = f
	pt.Map(vpn, f.PPN, PTEFlags(a.perm))
	return nil
}

func (a *MapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	if f, ok := a.frames[vpn]; ok {
		f.Release()
		delete(a.frames, vpn)
	}
	pt.Unmap(vpn)
}

// mapRange maps r, undoing its own work if frames run out.
func (a *MapArea) mapRange(pt *PageTable, r VPNRange) error {
	for vpn := r.Start; vpn < r.End; vpn++ {
		if err := a.mapOne(pt, vpn); err != nil {
			for undo := r.Start; undo < vpn; undo++ {
				a.unmapOne(pt, undo)
			}
			return err
		}
	}
	return nil
}

func (a *MapArea) unmapRange(pt *PageTable, r VPNRange) {
	r.Each(func(vpn VirtPageNum) bool {
		a.unmapOne(pt, vpn)
		return true
	})
}

// split detaches the pages at and above vpn into a new area.
func (a *MapArea) split(vpn VirtPageNum) *MapArea {
	right := newMapArea(VPNRange{Start: vpn, End: a.vpns.End}, a.perm)
	for v, f := range a.frames {
		if v >= vpn {
			right.frames[v] = f
			delete(a.frames, v)
		}
	}
	a.vpns.End = vpn
	return right
}

func (a *MapArea) info() AreaInfo {
	return AreaInfo{Range: a.vpns, Perm: a.perm}
}
