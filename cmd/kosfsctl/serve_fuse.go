//go:build linux

// Package main's FUSE export, grounded on
// ostafen-digler/internal/fuse's RecoverFS/Dir/File node types, adapted
// from a flat offset/size entry map over one os.File into a real
// directory tree walked through vfs.VFS (ReadDir/Stat/Open/Read)
// instead of a single reader's byte ranges.
package main

import (
	"context"
	"os"
	"path"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/kosfs/kosfs/vfs"
)

func runServe(m *mountedImage, mountpoint string) error {
	c, err := fuse.Mount(mountpoint, fuse.FSName("kosfs"), fuse.Subtype("kosfsctl"), fuse.ReadOnly())
	if err != nil {
		return err
	}
	defer c.Close()

	srv := &volumeFS{v: m.v}
	return fs.Serve(c, srv)
}

// volumeFS is the FUSE root filesystem backing one mounted vfs.VFS.
type volumeFS struct {
	v *vfs.VFS
}

func (vf *volumeFS) Root() (fs.Node, error) {
	return &fuseDir{vf: vf, path: "/"}, nil
}

// fuseDir implements fs.Node, fs.HandleReadDirAller and fs.NodeStringLookuper.
type fuseDir struct {
	vf   *volumeFS
	path string
}

func (d *fuseDir) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := d.vf.v.Stat(d.path)
	if err != nil {
		return fuse.ENOENT
	}
	a.Mode = os.ModeDir | 0555
	a.Mtime = st.ModTime
	return nil
}

func (d *fuseDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := path.Join(d.path, name)
	st, err := d.vf.v.Stat(child)
	if err != nil {
		return nil, fuse.ENOENT
	}
	if st.IsDir {
		return &fuseDir{vf: d.vf, path: child}, nil
	}
	return &fuseFile{vf: d.vf, path: child}, nil
}

func (d *fuseDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.vf.v.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	out := make([]fuse.Dirent, len(entries))
	for i, e := range entries {
		typ := fuse.DT_File
		if e.IsDir {
			typ = fuse.DT_Dir
		}
		out[i] = fuse.Dirent{Name: e.Name, Type: typ}
	}
	return out, nil
}

// fuseFile implements fs.Node and fs.HandleReadAller, reopening its
// backing handle on the shared vfs.VFS for every ReadAll call (read-only
// export, so there is no writer-ordering concern).
type fuseFile struct {
	vf   *volumeFS
	path string
}

func (f *fuseFile) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := f.vf.v.Stat(f.path)
	if err != nil {
		return fuse.ENOENT
	}
	a.Mode = 0444
	a.Size = uint64(st.Size)
	a.Mtime = st.ModTime
	return nil
}

func (f *fuseFile) ReadAll(ctx context.Context) ([]byte, error) {
	h, err := f.vf.v.Open(f.path, vfs.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.vf.v.CloseHandle(h)

	st, err := f.vf.v.Stat(f.path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, st.Size)
	n := 0
	for n < len(buf) {
		m, rerr := f.vf.v.Read(h, buf[n:])
		n += m
		if rerr != nil {
			break
		}
	}
	return buf[:n], nil
}
