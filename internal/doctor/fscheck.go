package doctor

// filesystem describes the mount backing a path.
type filesystem struct {
	Name string
	// Remote mounts delay mtime updates and break flock semantics.
	Remote bool
}
