package main

import "github.com/blondedman/face-recognition/cmd"

func main() {
	cmd.Execute()
}
