package statusapi

import (
	"embed"
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

//go:embed static/*
var embeddedStatic embed.FS

func mountStaticPage(r *gin.Engine) {
	fs, err := static.EmbedFolder(embeddedStatic, "static")
	if err != nil {
		panic("statusapi: failed to load embedded status page: " + err.Error())
	}
	r.Use(static.Serve("/", fs))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.RequestURI, "/status") || strings.HasPrefix(c.Request.RequestURI, "/healthz") {
			return
		}
		index, err := fs.Open("index.html")
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		defer index.Close()
		stat, _ := index.Stat()
		http.ServeContent(c.Writer, c.Request, "index.html", stat.ModTime(), index)
	})
}
