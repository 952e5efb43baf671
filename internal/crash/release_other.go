//go:build !unix

package crash

func kernelRelease() string { return "" }
