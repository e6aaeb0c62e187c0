package main

import "github.com/kkyr/scrobbled/cmd"

func main() {
	cmd.Execute()
}
