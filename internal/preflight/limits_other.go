//go:build !unix

package preflight

func checkFileDescriptors(int) Check {
	return Check{Name: "file_descriptors", Passed: true, Message: "not applicable"}
}

func checkCoreLimit() Check {
	return Check{Name: "core_limit", Passed: true, Message: "not applicable"}
}
