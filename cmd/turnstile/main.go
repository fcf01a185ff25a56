package main

import "github.com/nfrund/turnstile/cmd/turnstile/cmd"

func main() {
	cmd.Execute()
}
