package securemem

// init installs the memguard interrupt purge handler as soon as any path
// touching credentials is imported.
func init() {
	Init()
}
