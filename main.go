package main

import "github.com/ValentinKolb/dLock/cmd"

func main() {
	cmd.Execute()
}
