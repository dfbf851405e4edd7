package main

import "github.com/fmuoria/cv-triage/internal/cli"

func main() {
	cli.Execute()
}
