package main

import (
	_ "reel/internal/command/cleanup"
	_ "reel/internal/command/fetch"
	_ "reel/internal/command/monitor"
	"reel/internal/command/root"
	_ "reel/internal/command/status"
	_ "reel/internal/command/submit"
	_ "reel/internal/command/worker"
)

func main() {
	root.Execute()
}
