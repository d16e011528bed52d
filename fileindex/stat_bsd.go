//go:build darwin || freebsd || netbsd

package fileindex

import "syscall"

func init() {
	fillStatInfo = func(e *Entry, sys any) {
		st, ok := sys.(*syscall.Stat_t)
		if !ok {
			return
		}
		e.CtimeSec = uint64(st.Ctimespec.Sec)
		e.CtimeNsec = uint64(st.Ctimespec.Nsec)
		e.UID = st.Uid
		e.GID = st.Gid
	}
}
