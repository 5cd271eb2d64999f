package main

import "github.com/apptrail-sh/statusbar/internal/statusctl"

func main() {
	statusctl.Execute()
}
