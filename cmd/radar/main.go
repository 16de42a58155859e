package main

import (
	"radar/cmd/handlers"
	"radar/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
