//go:build linux

package mapping

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/npheap/internal/mmap"
	"github.com/hupe1980/npheap/internal/registry"
)

var (
	// ErrInvalidLength is returned for a mapping shorter than one page.
	ErrInvalidLength = errors.New("mapping: invalid length")
	// ErrAllocFailed is returned when the object's buffer cannot be allocated.
	ErrAllocFailed = errors.New("mapping: backing allocation failed")
	// ErrAgain is returned when a page fails to install. Earlier pages stay mapped.
	ErrAgain = errors.New("mapping: page install failed, try again")
)

// PageInstaller installs one page of fd at byte offset off of a reservation.
type PageInstaller interface {
	InstallPage(m *mmap.Mapping, off int, fd int, fileOff int64, pageSize int) error
}

// FixedInstaller installs pages with MAP_FIXED shared file mappings.
type FixedInstaller struct{}

// InstallPage implements PageInstaller.
func (FixedInstaller) InstallPage(m *mmap.Mapping, off int, fd int, fileOff int64, pageSize int) error {
	return m.MapFixed(off, fd, fileOff, pageSize)
}

// Plan lists the frames backing the pages of one mapping.
type Plan struct {
	ID     uint64
	Size   uint64
	Frames []uint64
}

// Options configures a Service.
type Options struct {
	// Installer installs pages. Defaults to FixedInstaller.
	Installer PageInstaller
	// Logger receives mapping diagnostics. Nil discards.
	Logger *slog.Logger
}

// Service establishes mappings of registry objects.
type Service struct {
	reg       *registry.Registry
	fd        int
	pageSize  int
	installer PageInstaller
	logger    *slog.Logger
}

// NewService returns a Service installing frames of the physical memory file fd.
func NewService(reg *registry.Registry, fd int, pageSize int, optFns ...func(*Options)) *Service {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Installer == nil {
		opts.Installer = FixedInstaller{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		reg:       reg,
		fd:        fd,
		pageSize:  pageSize,
		installer: opts.Installer,
		logger:    opts.Logger,
	}
}

// Map reserves a region of length bytes and establishes it for id.
//
// On ErrAgain the partially installed region is returned along with the
// error; the caller owns it and must Unmap it. On any other error no region
// is returned.
func (s *Service) Map(id uint64, length uint64) (*Region, error) {
	r, err := NewRegion(id, length, s.pageSize)
	if err != nil {
		return nil, err
	}
	if err := s.Establish(id, r, length); err != nil {
		if errors.Is(err, ErrAgain) {
			return r, err
		}
		_ = r.Unmap()
		return nil, err
	}
	return r, nil
}

// Establish maps object id into r, allocating length bytes of backing on the
// object's first mapping. An object that already has a buffer keeps it and
// length is ignored.
func (s *Service) Establish(id uint64, r *Region, length uint64) error {
	if length/uint64(s.pageSize) == 0 {
		return fmt.Errorf("%w: %d bytes is less than one page", ErrInvalidLength, length)
	}

	for {
		o := s.reg.GetOrCreate(id)
		o.Lock()
		if o.DeletedLocked() {
			// Lost a race with Delete; the next GetOrCreate sees a fresh object.
			o.Unlock()
			continue
		}

		plan, err := s.planLocked(o, uint64(r.Pages()), length)
		if err == nil {
			err = Install(r, s.fd, plan, s.installer)
		}
		o.Unlock()

		if err != nil {
			if errors.Is(err, ErrAgain) {
				s.logger.Error("partial mapping", "id", id, "pages_installed", r.Installed(), "pages", r.Pages(), "error", err)
			}
			return err
		}

		r.OnOpen(func(nr *Region) error {
			return s.Establish(id, nr, uint64(nr.Len()))
		})
		return nil
	}
}

// Resolve allocates the object's buffer if needed and returns the frames of
// the first length/pageSize pages without installing anything.
func (s *Service) Resolve(id uint64, length uint64) (*Plan, error) {
	pages := length / uint64(s.pageSize)
	if pages == 0 {
		return nil, fmt.Errorf("%w: %d bytes is less than one page", ErrInvalidLength, length)
	}

	for {
		o := s.reg.GetOrCreate(id)
		o.Lock()
		if o.DeletedLocked() {
			o.Unlock()
			continue
		}
		plan, err := s.planLocked(o, pages, length)
		o.Unlock()
		return plan, err
	}
}

func (s *Service) planLocked(o *registry.Object, pages uint64, length uint64) (*Plan, error) {
	if o.SizeLocked() == 0 {
		if err := o.AllocateLocked(s.reg.Allocator(), length); err != nil {
			s.logger.Error("backing allocation failed", "id", o.ID(), "length", length, "error", err)
			return nil, fmt.Errorf("%w: id %d, %d bytes: %w", ErrAllocFailed, o.ID(), length, err)
		}
	} else if o.SizeLocked() != length {
		s.logger.Debug("mapping length differs from allocation", "id", o.ID(), "length", length, "size", o.SizeLocked())
	}

	buf := o.BackingLocked()
	pages = min(pages, buf.Pages())

	frames := make([]uint64, pages)
	if buf.Contiguous() {
		base, err := buf.PFN(0)
		if err != nil {
			return nil, err
		}
		for i := range frames {
			frames[i] = base + uint64(i)
		}
		return &Plan{ID: o.ID(), Size: o.SizeLocked(), Frames: frames}, nil
	}
	for i := range pages {
		pfn, err := buf.PFN(i)
		if err != nil {
			return nil, err
		}
		frames[i] = pfn
	}
	return &Plan{ID: o.ID(), Size: o.SizeLocked(), Frames: frames}, nil
}

// Install runs the page loop for plan into r using the frames of fd. It stops
// at the first failing page with an error matching ErrAgain and leaves the
// pages before it mapped.
func Install(r *Region, fd int, plan *Plan, installer PageInstaller) error {
	if len(plan.Frames) > r.Pages() {
		return fmt.Errorf("%w: plan of %d pages for a %d page region", ErrInvalidLength, len(plan.Frames), r.Pages())
	}

	ps := r.pageSize
	for i, pfn := range plan.Frames {
		if err := installer.InstallPage(r.m, i*ps, fd, int64(pfn)*int64(ps), ps); err != nil {
			return fmt.Errorf("%w: page %d of %d: %w", ErrAgain, i, len(plan.Frames), err)
		}
		r.installed = max(r.installed, i+1)
	}
	r.size = plan.Size
	return nil
}
