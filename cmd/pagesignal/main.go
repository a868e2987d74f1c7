// Package main provides the pagesignal CLI.
//
// pagesignal renders every URL of a CSV input in a shared headless browser,
// scores its scripts and domain and appends one feature row per page to a
// dataset file.
//
// Usage:
//
//	pagesignal scan --input targets.csv
//	pagesignal scan                      # every CSV in the uploads directory
//	pagesignal serve
package main

func main() {
	Execute()
}
