package main

import "github.com/enlaces-epn/callcenter/cmd"

func main() {
	cmd.Execute()
}
