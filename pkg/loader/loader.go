// Package loader resolves application names to loadable images.
package loader

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tinyos/pkg/trap"
)

// Loader errors.
var (
	ErrDuplicateImage = errors.New("image already registered")
	ErrInvalidImage   = errors.New("invalid image")
)

// Perm is a segment permission set, using the same bits as mmap's port.
type Perm uint8

// Segment permissions.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Segment is one loadable region of an image.
type Segment struct {
	// VirtAddr is where the segment starts in the user address space.
	VirtAddr uint64
	// MemSize is the size in memory; bytes past len(Data) are zero.
	MemSize uint64
	// Data is the initialized content.
	Data []byte
	// Perm is the access granted to user code.
	Perm Perm
}

// Image is a loadable application.
type Image struct {
	// Name is the name exec and spawn resolve.
	Name string
	// Segments are loaded in order; they must not overlap.
	Segments []Segment
	// Entry is the program's first instruction.
	Entry trap.Entry
}

// Validate checks that the image can be loaded.
func (img *Image) Validate() error {
	if img.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidImage)
	}
	if img.Entry == nil {
		return fmt.Errorf("%w: %s has no entry", ErrInvalidImage, img.Name)
	}
	for i, s := range img.Segments {
		if uint64(len(s.Data)) > s.MemSize {
			return fmt.Errorf("%w: %s segment %d data exceeds its size", ErrInvalidImage, img.Name, i)
		}
		if s.Perm == 0 || s.Perm&^(PermRead|PermWrite|PermExec) != 0 {
			return fmt.Errorf("%w: %s segment %d has permission %#x", ErrInvalidImage, img.Name, i, s.Perm)
		}
	}
	return nil
}

// Resolver looks up images by name.
type Resolver interface {
	Resolve(name string) (*Image, bool)
}

// Registry is an in-memory Resolver.
type Registry struct {
	mu     sync.RWMutex
	images map[string]*Image
}

// NewRegistry returns a registry holding images.
func NewRegistry(images ...*Image) (*Registry, error) {
	r := &Registry{images: make(map[string]*Image)}
	for _, img := range images {
		if err := r.Register(img); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an image.
func (r *Registry) Register(img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[img.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateImage, img.Name)
	}
	r.images[img.Name] = img
	return nil
}

// Resolve returns the image registered under name.
func (r *Registry) Resolve(name string) (*Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[name]
	return img, ok
}

// Names lists the registered images in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
