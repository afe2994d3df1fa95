package usage

import "golang.org/x/sys/unix"

// Disk is the filesystem capacity behind one path.
type Disk struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// StatfsFunc reports filesystem capacity for the filesystem holding path.
type StatfsFunc func(path string) (Disk, error)

// Statfs reads capacity with statfs(2). Free space is what an unprivileged
// user can allocate.
func Statfs(path string) (Disk, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Disk{}, err
	}
	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	used := (stat.Blocks - stat.Bfree) * bsize
	return Disk{TotalBytes: total, UsedBytes: used, FreeBytes: free}, nil
}
