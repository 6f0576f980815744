// Legion is the command-line client for the legatus orchestrator.
package main

func main() {
	Execute()
}
