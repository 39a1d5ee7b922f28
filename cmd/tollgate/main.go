package main

import "github.com/lightninglabs/tollgate"

func main() {
	tollgate.Main()
}
