package approuters

import (
	"RoastMedia/internal/configuration"

	"github.com/gin-gonic/gin"
)

func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitor := router.Group("/rm/api/monitor")
	{
		monitor.GET("/stats", container.MonitorHandler.GetRelayStats)
	}
}
