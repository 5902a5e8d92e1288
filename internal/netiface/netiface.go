// Package netiface validates configured interface names against the
// kernel's link enumeration. It never mutates link state.
package netiface

import "github.com/vishvananda/netlink"

// Exists reports whether name is present among the host's network links.
func Exists(name string) (bool, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.Attrs().Name == name {
			return true, nil
		}
	}
	return false, nil
}
