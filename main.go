package main

import "github.com/Zerofisher/hcisnoop/cmd"

func main() {
	cmd.Execute()
}
