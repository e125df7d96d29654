package providers

import (
	"go.uber.org/fx"

	"github.com/listinglens/listinglens/internal/providers/imagen"
	"github.com/listinglens/listinglens/internal/providers/pdf"
)

var Module = fx.Module("providers",
	imagen.Module,
	pdf.Module,
)
