//go:build !linux || !cgo

package journal

import "errors"

var errNoNative = errors.New("native journal access requires linux with cgo; use a JSON export instead")

func openNativeDir(string) (Store, error) {
	return nil, &Error{Op: "open directory", Kind: KindUnsupported, Err: errNoNative}
}

func openNativeFiles([]string) (Store, error) {
	return nil, &Error{Op: "open files", Kind: KindUnsupported, Err: errNoNative}
}
