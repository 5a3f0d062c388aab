package main

import "github.com/salutethegenius/kemiscrm-sub000/internal/cli"

func main() {
	cli.Execute()
}
