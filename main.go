package main

import "github.com/yourusername/site-monitor/cmd"

func main() {
	cmd.Execute()
}
