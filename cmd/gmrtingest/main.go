package main

import "github.com/spectriclabs/gmrt-ingest/internal/app"

func main() {
	app.Run()
}
