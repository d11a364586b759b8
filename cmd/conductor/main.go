// Command conductor delegates work to subagents behind the hierarchy, file
// lock, concurrency, convergence, clarification and approval gates.
package main

func main() {
	Execute()
}
