package main

import "github.com/jswmusik/jobbeli/cmd/lotteryctl/cmd"

func main() {
	cmd.Execute()
}
