package main

import "loandocs/internal/app"

func main() {
	app.Execute()
}
