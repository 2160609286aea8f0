// Command tabletalk answers questions about a relational database in plain
// language.
package main

func main() {
	Execute()
}
