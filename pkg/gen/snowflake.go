package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen",
	fx.Provide(ProvideNode),
)

// ProvideNode returns the process-wide snowflake node. Node id 1; override via
// config once multi-instance deployments need distinct nodes.
func ProvideNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
