package main

import "github.com/redhat-et/card-broker/broker-service/cmd"

func main() {
	cmd.Execute()
}
