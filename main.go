package main

import "github.com/ridoystarlord/schemadeploy/cmd"

func main() {
	cmd.Execute()
}
