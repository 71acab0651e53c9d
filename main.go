package main

import "mjpeg-stream-server/cmd"

func main() {
	cmd.Execute()
}
