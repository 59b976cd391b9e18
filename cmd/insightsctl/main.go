// Command insightsctl is the operator CLI of the lesson insights service.
package main

func main() {
	Execute()
}
