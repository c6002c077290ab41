// Command messenger is a terminal client for the home-services marketplace
// messaging API: log in with a bearer token, browse conversations, send
// messages and follow new ones live.
package main

func main() {
	Execute()
}
