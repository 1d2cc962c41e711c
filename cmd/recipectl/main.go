package main

import "recipebox/backend/internal/cli"

func main() {
	cli.Execute()
}
