// Command sizew measures recursive directory sizes against a persistent
// cache, printing the resulting byte count for the given path.
package main

func main() {
	Execute()
}
