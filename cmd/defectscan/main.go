package main

import "github.com/MeKo-Tech/defectscan/cmd/defectscan/cmd"

func main() {
	cmd.Execute()
}
