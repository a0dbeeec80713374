package main

import server "rift-and-ruin/server"

func main() {
	server.Run()
}
