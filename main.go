package main

import "github.com/Norgate-AV/xbuild/cmd"

func main() {
	cmd.Execute()
}
