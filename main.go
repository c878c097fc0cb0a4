package main

import "github.com/nextlevelbuilder/zulipgate/cmd"

func main() {
	cmd.Execute()
}
