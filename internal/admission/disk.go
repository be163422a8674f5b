package admission

import (
	"golang.org/x/sys/unix"
)

// DiskUsedPercent reports the usage of the filesystem holding path, in
// percent. Health checks consult it directly, without a Controller.
func DiskUsedPercent(path string) (float64, error) {
	return diskUsedPercent(path)
}

// diskUsedPercent reports the usage of the filesystem holding path, in
// percent. The calculation mirrors df: blocks reserved for root count as
// used, so the figure matches what an operator sees.
func diskUsedPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := st.Blocks - st.Bavail
	return float64(used) / float64(st.Blocks) * 100, nil
}
