//go:build linux

package doctor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfs f_type values worth naming in a report.
var knownMagic = map[uint32]filesystem{
	0x6969:     {Name: "nfs", Remote: true},
	0xFF534D42: {Name: "cifs", Remote: true},
	0x517B:     {Name: "smbfs", Remote: true},
	0xFE534D42: {Name: "smb2", Remote: true},
	0x00C36400: {Name: "ceph", Remote: true},
	0x01021997: {Name: "9p", Remote: true},
	0x65735546: {Name: "fuse"},
	0xEF53:     {Name: "ext4"},
	0x58465342: {Name: "xfs"},
	0x9123683E: {Name: "btrfs"},
	0x01021994: {Name: "tmpfs"},
	0x794C7630: {Name: "overlayfs"},
}

func detectFilesystem(path string) (filesystem, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return filesystem{}, fmt.Errorf("statfs %q: %w", path, err)
	}
	magic := uint32(st.Type)
	if fs, ok := knownMagic[magic]; ok {
		return fs, nil
	}
	return filesystem{Name: fmt.Sprintf("0x%x", magic)}, nil
}
