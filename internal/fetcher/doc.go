// Package fetcher holds helpers shared by the fetch worker implementations in
// its subpackages: headless (chromedp) and static (colly).
package fetcher
