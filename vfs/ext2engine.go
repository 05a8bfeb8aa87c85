package vfs

import "github.com/kosfs/kosfs/ext2"

// ext2Engine adapts *ext2.FS to Engine.
type ext2Engine struct {
	fs *ext2.FS
}

func newExt2Engine(fs *ext2.FS) Engine { return &ext2Engine{fs: fs} }

func (e *ext2Engine) ReadOnly() bool { return e.fs.ReadOnly() }
func (e *ext2Engine) Sync() error    { return e.fs.Sync() }
func (e *ext2Engine) Unmount() error { return e.fs.Unmount() }

func (e *ext2Engine) Open(path string, flags OpenFlags) (Handle, error) {
	return e.fs.Open(path, ext2.OpenFlags(flags))
}

func (e *ext2Engine) Close(h Handle) error {
	return e.fs.Close(h.(*ext2.File))
}

func (e *ext2Engine) Read(h Handle, buf []byte) (int, error) {
	return e.fs.Read(h.(*ext2.File), buf)
}

func (e *ext2Engine) Write(h Handle, buf []byte) (int, error) {
	return e.fs.Write(h.(*ext2.File), buf)
}

func (e *ext2Engine) Seek(h Handle, offset int64, whence int) (int64, error) {
	return e.fs.Seek(h.(*ext2.File), offset, whence)
}

func (e *ext2Engine) Tell(h Handle) int64 {
	return e.fs.Tell(h.(*ext2.File))
}

func (e *ext2Engine) ReadDir(path string) ([]DirEntry, error) {
	ents, err := e.fs.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(ents))
	for i, d := range ents {
		out[i] = DirEntry{Name: d.Name, IsDir: d.IsDir}
	}
	return out, nil
}

func (e *ext2Engine) Mkdir(path string) error  { return e.fs.Mkdir(path) }
func (e *ext2Engine) Rmdir(path string) error  { return e.fs.Rmdir(path) }
func (e *ext2Engine) Remove(path string) error { return e.fs.Remove(path) }
func (e *ext2Engine) Rename(oldPath, newPath string) error {
	return e.fs.Rename(oldPath, newPath)
}
func (e *ext2Engine) Symlink(target, linkPath string) error {
	return e.fs.Symlink(target, linkPath)
}
func (e *ext2Engine) Readlink(path string) (string, error) { return e.fs.Readlink(path) }
func (e *ext2Engine) Link(oldPath, newPath string) error   { return e.fs.Link(oldPath, newPath) }

func (e *ext2Engine) Stat(path string) (Stat, error) {
	st, err := e.fs.Stat(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Size: st.Size, IsDir: st.IsDir, ModTime: st.ModTime,
		Blocks: st.Blocks, BlockSize: st.BlockSize,
	}, nil
}
