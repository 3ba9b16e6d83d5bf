package vm

import "github.com/AndrewD/prex/defs"

// Dup deep-copies src's segment list for task_create(COPY). MMU-only:
// a writable, unmapped segment gets a fresh physical copy at fork
// time; a read-only, unmapped segment is marked SHARED and linked
// into both tasks' shared circle so either side's later Attribute
// call triggers the copy-on-write break.
func Dup(src *Map_t) (*Map_t, defs.Err_t) {
	if src.MMU == nil {
		return nil, defs.ENOTSUP
	}

	src.Lock()
	defer src.Unlock()

	dst := &Map_t{Pages: src.Pages, MMU: src.MMU, RefCount: 1}
	dst.Pmap = src.MMU.NewPageDir()
	dst.Segs = &segList{}

	for _, s := range src.Segs.segs {
		cp := &Segment_t{Base: s.Base, Size: s.Size, Flags: s.Flags}
		if s.free() {
			cp.selfLink()
			dst.Segs.segs = append(dst.Segs.segs, cp)
			continue
		}

		switch {
		case s.mapped():
			// Already a cross-task mapping; the new task simply joins
			// the same shared circle rather than copying bytes.
			cp.PA = s.PA
			cp.linkWith(s)
		case !s.shared() && s.Flags&defs.SEG_WRITE != 0:
			// Writable, private: deep copy now.
			newPA, err := dst.Pages.Alloc(s.Size)
			if err != 0 {
				return nil, defs.ENOMEM
			}
			copy(dst.Pages.Bytes(newPA, s.Size), src.Pages.Bytes(s.PA, s.Size))
			cp.PA = newPA
			cp.selfLink()
		default:
			// Read-only (e.g. text): defer the copy. Mark both copies
			// SHARED and thread them onto one shared circle so either
			// side's Attribute call triggers copy-on-write.
			cp.PA = s.PA
			cp.Flags |= defs.SEG_SHARED
			s.Flags |= defs.SEG_SHARED
			cp.linkWith(s)
		}
		dst.Segs.segs = append(dst.Segs.segs, cp)
		if dst.MMU != nil {
			if err := dst.MMU.Map(dst.Pmap, cp.PA, cp.Base, cp.Size, cp.Flags); err != 0 {
				return nil, err
			}
		}
	}
	return dst, 0
}
