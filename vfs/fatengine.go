package vfs

import "github.com/kosfs/kosfs/fat"

// fatEngine adapts *fat.FS to Engine.
type fatEngine struct {
	fs *fat.FS
}

func newFatEngine(fs *fat.FS) Engine { return &fatEngine{fs: fs} }

func (e *fatEngine) ReadOnly() bool { return e.fs.ReadOnly() }
func (e *fatEngine) Sync() error    { return e.fs.Sync() }
func (e *fatEngine) Unmount() error { return e.fs.Unmount() }

func (e *fatEngine) Open(path string, flags OpenFlags) (Handle, error) {
	return e.fs.Open(path, fat.OpenFlags(flags))
}

func (e *fatEngine) Close(h Handle) error {
	return e.fs.Close(h.(*fat.File))
}

func (e *fatEngine) Read(h Handle, buf []byte) (int, error) {
	return e.fs.Read(h.(*fat.File), buf)
}

func (e *fatEngine) Write(h Handle, buf []byte) (int, error) {
	return e.fs.Write(h.(*fat.File), buf)
}

func (e *fatEngine) Seek(h Handle, offset int64, whence int) (int64, error) {
	return e.fs.Seek(h.(*fat.File), offset, whence)
}

func (e *fatEngine) Tell(h Handle) int64 {
	return e.fs.Tell(h.(*fat.File))
}

func (e *fatEngine) ReadDir(path string) ([]DirEntry, error) {
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

func (e *fatEngine) Mkdir(path string) error { return e.fs.Mkdir(path) }
func (e *fatEngine) Rmdir(path string) error { return e.fs.Rmdir(path) }
func (e *fatEngine) Remove(path string) error { return e.fs.Remove(path) }
func (e *fatEngine) Rename(oldPath, newPath string) error {
	return e.fs.Rename(oldPath, newPath)
}
func (e *fatEngine) Symlink(target, linkPath string) error {
	return e.fs.Symlink(target, linkPath)
}
func (e *fatEngine) Readlink(path string) (string, error) { return e.fs.Readlink(path) }
func (e *fatEngine) Link(oldPath, newPath string) error   { return e.fs.Link(oldPath, newPath) }

func (e *fatEngine) Stat(path string) (Stat, error) {
	st, err := e.fs.Stat(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Size: st.Size, IsDir: st.IsDir, ModTime: st.ModTime,
		Blocks: st.Blocks * int64(st.BlockSize) / 512, BlockSize: st.BlockSize,
	}, nil
}
