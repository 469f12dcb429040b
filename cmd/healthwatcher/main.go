package main

import "lending-health-alerts/internal/cli"

func main() {
	cli.Execute()
}
