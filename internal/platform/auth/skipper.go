package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are probe and scrape endpoints reachable without a token.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/health/ready": true,
	"/metrics":      true,
}

// AuthSkipper matches on the registered route path, not the raw URL.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
