package i18n

var ptBRMessages = map[Code]string{
	CodeUnknown:             "Ocorreu um erro inesperado",
	CodeInvalidArgument:     "{{if .Field}}Valor inválido para {{.Field}}{{else}}Requisição inválida{{end}}",
	CodeNotFound:            "{{if .Resource}}{{.Resource}} não encontrado{{else}}Não encontrado{{end}}",
	CodeConcurrencyConflict: "O carro foi alterado por outra requisição; recarregue e tente novamente",
	CodeCheckpointConflict:  "O checkpoint da projeção mudou durante a aplicação do lote",
	CodeStoreUnavailable:    "Armazenamento temporariamente indisponível; tente novamente em instantes",
	CodeUnknownEventType:    "Tipo de evento desconhecido {{.EventType}}",
	CodeApplyFailure:        "A projeção {{.Projection}} falhou ao aplicar um evento",
	CodeUnknownProjection:   "Projeção desconhecida {{.Projection}}",
	CodeProjectionsDisabled: "As projeções não estão em execução neste processo",
}
