package main

import (
	"os"

	"horse.fit/amscreen/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
